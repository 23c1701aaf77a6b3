package service

import (
	"context"
	"fmt"
)

// Event identifies an inbound update from the messaging platform.
type Event struct {
	UserID    string
	ChatID    int64
	MessageID int
	Text      string
	// Command is set for slash commands, without the slash.
	Command string
}

// Message is one outbound message. A message with ImageURL is delivered as the
// text followed by the image.
type Message struct {
	Text     string
	ImageURL string
	// Choices are offered as one-tap replies.
	Choices []string
}

// Messenger delivers messages either as a reply to an event or as a push to a
// user outside any reply window.
type Messenger interface {
	Reply(ctx context.Context, ev Event, msgs ...Message) error
	Push(ctx context.Context, userID string, msgs ...Message) error
}

const (
	textWelcome            = "ようこそ！YouTubeサムネイル生成ボットです。\n作りたい画像の内容を送ってください。\n残りクレジット: %d回"
	textBalance            = "残りクレジット: %d回"
	textConfirm            = "「%s」\nこの内容で画像を生成しますか？\n(%s/%s)"
	textNothingToGenerate  = "生成する内容がありません。作りたい画像の内容を送ってください。"
	textCancelled          = "キャンセルしました。"
	textPaymentRequired    = "クレジットが不足しています。\nこちらからチャージしてください（%s/%d回）:\n%s"
	textBuy                = "こちらからチャージしてください（%s/%d回）:\n%s"
	textPaymentUnavailable = "決済ページを作成できませんでした。しばらくしてから再度お試しください。"
	textBusy               = "画像を生成中です。完了までお待ちください。"
	textHint               = "作りたい画像の内容をテキストで送ってください。"
	textGenerating         = "画像を生成しています。少々お待ちください…"
	textGenerated          = "画像が完成しました！\n残りクレジット: %d回"
	textGenerationFailed   = "画像の生成に失敗しました。もう一度「%s」と送ると再試行できます。"
	textPublishFailed      = "画像のアップロードに失敗しました。もう一度「%s」と送ると再試行できます。"
	textGenericError       = "エラーが発生しました。しばらくしてから再度お試しください。"
	textCreditsAdded       = "お支払いありがとうございます！%d回分のクレジットを追加しました。\n残りクレジット: %d回"
)

func priceLabel(amount int, currency string) string {
	if currency == "jpy" {
		return fmt.Sprintf("%d円", amount)
	}
	return fmt.Sprintf("%d %s", amount, currency)
}
