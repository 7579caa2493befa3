package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"

	// CommandStart 以下はマイニング操作を1回実行して結果をJSONで出力する。
	CommandStart  Command = "start"
	CommandClick  Command = "click"
	CommandClaim  Command = "claim"
	CommandStats  Command = "stats"
	CommandGlobal Command = "global"
)

// DefaultCLIUserID はCLIでユーザーIDを省略した場合に使うID。
const DefaultCLIUserID = "default-user"

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandMigrate, CommandHealthcheck,
		CommandStart, CommandClick, CommandClaim, CommandStats, CommandGlobal:
		return cmd
	default:
		return CommandServe
	}
}

// IsMining はマイニング操作のサブコマンドかを返す。
func (c Command) IsMining() bool {
	switch c {
	case CommandStart, CommandClick, CommandClaim, CommandStats, CommandGlobal:
		return true
	}
	return false
}

// parseMiningArgs はサブコマンドに続くユーザーIDと精算先アドレスを返す。
// 精算先アドレスを省略した場合はユーザーIDを使う。
func parseMiningArgs(args []string) (userID, address string) {
	userID = DefaultCLIUserID
	if len(args) > 1 && args[1] != "" {
		userID = args[1]
	}
	address = userID
	if len(args) > 2 && args[2] != "" {
		address = args[2]
	}
	return userID, address
}
