package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/logger"
)

const base64LineLen = 76

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink mails each report as an attachment.
type EmailSink struct {
	addr      string
	from      string
	defaultTo string
	auth      smtp.Auth
	send      SendFunc
	now       func() time.Time
	log       logger.Logger
}

// NewEmailSink creates a sink sending through the SMTP server at addr.
func NewEmailSink(addr, from string, opts ...EmailOption) *EmailSink {
	s := &EmailSink{
		addr: addr,
		from: from,
		send: smtp.SendMail,
		now:  time.Now,
		log:  logger.Get().Named("email"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver sends d to its recipient. A delivery without an explicit address
// goes to the sink's default recipient; with neither it fails with
// model.ErrNoRecipient.
func (s *EmailSink) Deliver(ctx context.Context, d model.Delivery) error { //nolint:gocritic // hugeParam
	to, err := d.Recipient.Resolve(s.defaultTo)
	if err != nil {
		return fmt.Errorf("email %s: %w", d.SubjectID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.compose(to, d)
	if err != nil {
		return fmt.Errorf("compose email for %s: %w", d.SubjectID, err)
	}
	if err := s.send(s.addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send email for %s: %w", d.SubjectID, err)
	}

	s.log.Info(ctx, "report emailed",
		logger.String("subject_id", d.SubjectID),
		logger.String("period", d.Period.String()),
		logger.String("to", to),
		logger.Int("bytes", len(d.Bytes)),
	)
	return nil
}

func (s *EmailSink) compose(to string, d model.Delivery) ([]byte, error) { //nolint:gocritic // hugeParam
	name := d.Metadata["driver_name"]
	if name == "" {
		name = d.SubjectID
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", s.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "Driver report "+name+" "+d.Period.String()))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "Attached is the driver report for %s, period %s.\r\n", name, d.Period)

	fileName := d.FileName()
	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {d.Format.ContentType() + "; name=\"" + fileName + "\""},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {"attachment; filename=\"" + fileName + "\""},
	})
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(d.Bytes)
	for len(enc) > base64LineLen {
		if _, err := att.Write([]byte(enc[:base64LineLen] + "\r\n")); err != nil {
			return nil, err
		}
		enc = enc[base64LineLen:]
	}
	if _, err := att.Write([]byte(enc + "\r\n")); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EmailOption configures an EmailSink.
type EmailOption func(*EmailSink)

// WithDefaultRecipient sets the address used when a delivery names none.
func WithDefaultRecipient(addr string) EmailOption {
	return func(s *EmailSink) {
		s.defaultTo = addr
	}
}

// WithPlainAuth authenticates with username and password against host.
func WithPlainAuth(username, password, host string) EmailOption {
	return func(s *EmailSink) {
		if username != "" {
			s.auth = smtp.PlainAuth("", username, password, host)
		}
	}
}

// WithSendFunc replaces the SMTP transport.
func WithSendFunc(fn SendFunc) EmailOption {
	return func(s *EmailSink) {
		if fn != nil {
			s.send = fn
		}
	}
}

// WithEmailClock sets the time source for the Date header.
func WithEmailClock(now func() time.Time) EmailOption {
	return func(s *EmailSink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEmailLogger sets the logger.
func WithEmailLogger(l logger.Logger) EmailOption {
	return func(s *EmailSink) {
		if l != nil {
			s.log = l
		}
	}
}
