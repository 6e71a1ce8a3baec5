package audit

import (
	"context"

	"github.com/NizariMohamed/chatting/pkg/log"
)

// Audit actions for the messaging service.
const (
	ActionRegister       = "account.register"
	ActionLogin          = "account.login"
	ActionLoginFailed    = "account.login_failed"
	ActionProfileUpdate  = "account.profile_update"
	ActionConnect        = "dm.connect"
	ActionConnectFailed  = "dm.connect_failed"
	ActionDisconnect     = "dm.disconnect"
	ActionDeleteMessage  = "dm.delete_message"
	ActionHideMessage    = "dm.hide_message"
	ActionUploadAttached = "dm.upload_attachment"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}

// LogTarget emits an audit log naming the affected object.
func LogTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
