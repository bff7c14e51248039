// Package config はリレーサーバーの設定を読み込む。
//
// 既定値、RELAY_CONFIGで指定されたYAMLファイル、環境変数の順に適用し、
// 後から適用したものが優先される。
package config
