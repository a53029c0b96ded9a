package toolbox

import "context"

// Tool execution context keys. Values are injected once per invocation by
// the agent driver and read by individual tools during Execute, so tool
// instances stay stateless and safe to share across concurrent
// invocations for different users.
type ctxKey string

const (
	ctxWorkingDir ctxKey = "toolbox_working_dir"
	ctxUserID     ctxKey = "toolbox_user_id"
	ctxGitToken   ctxKey = "toolbox_git_token"
)

func WithWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ctxWorkingDir, dir)
}

func WorkingDirFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkingDir).(string)
	return v
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserIDFromCtx(ctx context.Context) int64 {
	v, _ := ctx.Value(ctxUserID).(int64)
	return v
}

func WithGitToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxGitToken, token)
}

func GitTokenFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxGitToken).(string)
	return v
}
