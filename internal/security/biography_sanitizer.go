// Package security はアプリケーションのセキュリティ機能を提供する。
//
// BiographySanitizer は著者紹介など利用者が入力する自由記述テキストを保存前にサニタイズする。
// 著者紹介はプレーンテキストとして保存・返却するため、マークアップはすべて除去し、
// 文字参照はデコードして元の文字に戻す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はマークアップを除去したプレーンテキストを、前後の空白を取り除いて返す。
	// 出力を再度Sanitizeしても変化しない（冪等）。
	Sanitize(raw string) string
}

// biographySanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使い回せる。
type biographySanitizer struct {
	policy *bluemonday.Policy
}

// NewBiographySanitizer は著者紹介用のTextSanitizerを生成する。
// bluemondayのStrictPolicyで全タグを除去する。script, styleは中身ごと除去される。
func NewBiographySanitizer() *biographySanitizer {
	return &biographySanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は著者紹介をプレーンテキストに変換する。
//
// StrictPolicyは本文をHTMLエスケープして返すため、html.UnescapeStringで元の文字に戻す。
// "&lt;script&gt;" のような文字参照はデコード後にタグとなるので、変化しなくなるまで繰り返す。
// 各回で文字列は短くなり、短くならなければそこで打ち切る。
func (s *biographySanitizer) Sanitize(raw string) string {
	text := raw
	for {
		next := html.UnescapeString(s.policy.Sanitize(text))
		done := len(next) >= len(text)
		text = next
		if done {
			break
		}
	}
	return strings.TrimSpace(text)
}
