package delivery_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"

	delivery "github.com/okian/fleetreport/internal/adapters/delivery"
	"github.com/okian/fleetreport/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

type fakeSMTP struct {
	sent []sentMail
	err  error
}

func (f *fakeSMTP) Send(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{addr: addr, from: from, to: to, msg: msg})
	return nil
}

var period = model.Period{Month: 4, Year: 2026}

func sample(r model.Recipient) model.Delivery {
	return model.Delivery{
		SubjectID: "drv-9",
		Period:    period,
		Bytes:     []byte("%PDF-1.7 fake document"),
		Format:    model.FormatPDF,
		Recipient: r,
		Metadata:  map[string]string{"driver_name": "Jo Driver"},
	}
}

func TestEmailSink(t *testing.T) {
	Convey("Given an email sink with a default recipient", t, func() {
		smtpFake := &fakeSMTP{}
		sink := delivery.NewEmailSink("smtp.example.com:587", "reports@example.com",
			delivery.WithDefaultRecipient("fleet@example.com"),
			delivery.WithSendFunc(smtpFake.Send),
		)

		Convey("When delivering to an explicit address", func() {
			err := sink.Deliver(context.Background(), sample(model.To("jo@example.com")))

			Convey("Then the mail should go to that address", func() {
				So(err, ShouldBeNil)
				So(smtpFake.sent, ShouldHaveLength, 1)
				So(smtpFake.sent[0].to, ShouldResemble, []string{"jo@example.com"})
				So(smtpFake.sent[0].addr, ShouldEqual, "smtp.example.com:587")
				So(smtpFake.sent[0].from, ShouldEqual, "reports@example.com")
			})

			Convey("Then the report should be attached under its file name", func() {
				msg, err := mail.ReadMessage(bytes.NewReader(smtpFake.sent[0].msg))
				So(err, ShouldBeNil)

				mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
				So(err, ShouldBeNil)
				So(mediaType, ShouldEqual, "multipart/mixed")

				mr := multipart.NewReader(msg.Body, params["boundary"])
				_, err = mr.NextPart()
				So(err, ShouldBeNil)
				att, err := mr.NextPart()
				So(err, ShouldBeNil)
				So(att.FileName(), ShouldEqual, "drv-9-2026-04.pdf")

				raw, err := io.ReadAll(att)
				So(err, ShouldBeNil)
				decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(raw), "\r\n", ""))
				So(err, ShouldBeNil)
				So(string(decoded), ShouldEqual, "%PDF-1.7 fake document")
			})
		})

		Convey("When delivering to the default recipient", func() {
			err := sink.Deliver(context.Background(), sample(model.DefaultRecipient()))

			Convey("Then the configured default should be used", func() {
				So(err, ShouldBeNil)
				So(smtpFake.sent[0].to, ShouldResemble, []string{"fleet@example.com"})
			})
		})

		Convey("When the SMTP server fails", func() {
			smtpFake.err = errors.New("421 service not available")
			err := sink.Deliver(context.Background(), sample(model.DefaultRecipient()))

			Convey("Then the error should be returned", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "421")
			})
		})
	})

	Convey("Given an email sink without a default recipient", t, func() {
		smtpFake := &fakeSMTP{}
		sink := delivery.NewEmailSink("smtp.example.com:25", "reports@example.com", delivery.WithSendFunc(smtpFake.Send))

		Convey("Then a delivery with no address should fail without sending", func() {
			err := sink.Deliver(context.Background(), sample(model.DefaultRecipient()))
			So(errors.Is(err, model.ErrNoRecipient), ShouldBeTrue)
			So(smtpFake.sent, ShouldBeEmpty)
		})
	})
}

func TestBufferSink(t *testing.T) {
	Convey("Given a buffer sink", t, func() {
		sink := delivery.NewBufferSink()
		d := sample(model.DefaultRecipient())

		So(sink.Deliver(context.Background(), d), ShouldBeNil)
		d.Bytes[0] = 'X'

		Convey("Then deliveries should be kept as copies", func() {
			got, ok := sink.Find("drv-9")
			So(ok, ShouldBeTrue)
			So(string(got.Bytes), ShouldStartWith, "%PDF")
			So(sink.Deliveries(), ShouldHaveLength, 1)
		})

		Convey("Then unknown subjects should not be found", func() {
			_, ok := sink.Find("nobody")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestFileSink(t *testing.T) {
	Convey("Given a file sink in a temporary directory", t, func() {
		dir := t.TempDir()
		sink := delivery.NewFileSink(dir, nil)

		Convey("When a report is delivered twice", func() {
			d := sample(model.DefaultRecipient())
			So(sink.Deliver(context.Background(), d), ShouldBeNil)
			d.Bytes = []byte("%PDF second")
			So(sink.Deliver(context.Background(), d), ShouldBeNil)

			Convey("Then the latest copy should be kept under the period folder", func() {
				got, err := os.ReadFile(filepath.Join(dir, "2026-04", "drv-9-2026-04.pdf"))
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "%PDF second")

				entries, err := os.ReadDir(filepath.Join(dir, "2026-04"))
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
			})
		})

		Convey("When the context is already done", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(errors.Is(sink.Deliver(ctx, sample(model.DefaultRecipient())), context.Canceled), ShouldBeTrue)
		})
	})
}
