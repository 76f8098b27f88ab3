package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	logger *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, logger: logger, send: smtp.SendMail}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, to, taskID, sourceName, errorMsg string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	err := n.send(addr, nil, n.from, []string{to}, n.compose(to, taskID, sourceName, errorMsg))
	if err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", to),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", to),
		zap.String("task_id", taskID),
	)
	return nil
}

func (n *SMTPNotifier) compose(to, taskID, sourceName, errorMsg string) []byte {
	subject := fmt.Sprintf("FIAP X - Text extraction failed [Task %s]", taskID)
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"We could not extract the on-screen text from your video.\r\n\r\n"+
			"Task ID: %s\r\n"+
			"Video: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"No transcript was saved for this task. Please check the file and submit it again.\r\n\r\n"+
			"-- FIAP X OCR Service",
		taskID, sourceName, oneLine(errorMsg),
	)

	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.from, oneLine(to), subject, body,
	))
}

// oneLine keeps caller-provided values from injecting extra headers.
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
