// Package logging はzapを用いた構造化ロガーの生成を提供する。
//
// 開発環境ではコンソール形式、本番環境ではJSON形式でログを出力する。
package logging
