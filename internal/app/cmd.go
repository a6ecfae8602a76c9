package app

// Command は起動サブコマンドを表す。
type Command string

const (
	// CommandServe はHTTP APIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークン掃除ワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションだけを実行して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの死活確認を行う。
	// シェルを持たないdistrolessイメージのDocker healthcheckから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭引数をサブコマンドとして解釈する。
// 引数なし・未知のコマンドはいずれもserve扱いとする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "worker":
		return CommandWorker
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
