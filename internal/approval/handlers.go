package approval

import (
	"context"
	"encoding/json"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/tools"
)

// ActionSendEmail 是发送邮件的审批动作。
const ActionSendEmail = "send_email"

// SendEmail 返回把审批载荷解码为邮件草稿并发送的执行器。
func SendEmail(mail tools.Mail) Handler {
	return func(ctx context.Context, req storage.Approval) (any, error) {
		var draft tools.Draft
		if err := json.Unmarshal(req.Payload, &draft); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析邮件草稿失败")
		}
		if draft.To == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "邮件草稿缺少收件人")
		}
		delivery, err := mail.Send(ctx, draft)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCapabilityFailure, err, "发送邮件失败")
		}
		return delivery, nil
	}
}
