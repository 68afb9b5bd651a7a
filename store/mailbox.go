package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/synqronlabs/smtpd"
	"github.com/synqronlabs/smtpd/utils"
)

// Mailbox writes one file per recipient under <root>/<recipient>/. Files
// are named <id>.<n>.eml, where n is the recipient's position in the
// envelope, and appear atomically.
type Mailbox struct {
	root string
}

var _ smtpd.MailStore = (*Mailbox)(nil)

// NewMailbox returns a store rooted at root. Directories are created on
// first delivery.
func NewMailbox(root string) *Mailbox {
	return &Mailbox{root: root}
}

// Deliver implements smtpd.MailStore. A recipient whose copy could not be
// written does not stop delivery to the others.
func (m *Mailbox) Deliver(ctx context.Context, body []byte, recipients []string) error {
	id := utils.GenerateID()

	var errs []error
	for i, rcpt := range recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.write(m.Dir(rcpt), fmt.Sprintf("%s.%d.eml", id, i), body); err != nil {
			errs = append(errs, fmt.Errorf("store: deliver to %s: %w", rcpt, err))
		}
	}
	return errors.Join(errs...)
}

// Dir returns the directory holding recipient's messages.
func (m *Mailbox) Dir(recipient string) string {
	return filepath.Join(m.root, mailboxName(recipient))
}

func (m *Mailbox) write(dir, name string, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// mailboxName turns an address into a single safe path element.
func mailboxName(address string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, utils.NormalizeAddress(address))

	if name == "" || strings.Trim(name, ".") == "" {
		return "_"
	}
	return name
}
