// Command tokenminer はクリック型マイニングのAPIサーバーとCLIを提供する。
//
//	tokenminer [serve]                     APIサーバーを起動する
//	tokenminer migrate                     データベースマイグレーションを適用する
//	tokenminer healthcheck                 /health を確認する（Dockerヘルスチェック用）
//	tokenminer start|click|stats <userId>  マイニング操作を1回実行する
//	tokenminer claim <userId> [address]    獲得済みトークンを請求する
//	tokenminer global                      全体の集計を表示する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tokenminer/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tokenminer: %v\n", err)
		os.Exit(1)
	}
}
