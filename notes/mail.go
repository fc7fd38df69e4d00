package notes

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"strings"

	"github.com/noelzubin/notes_vault/search"
	"github.com/samber/lo"
)

var headerDecoder = new(mime.WordDecoder)

// readMail parses an RFC 5322 message file. Labels come from the
// X-Labels and Keywords headers.
func readMail(fi FileInfo) (search.Mail, error) {
	f, err := os.Open(fi.Path)
	if err != nil {
		return search.Mail{}, err
	}
	defer f.Close()
	return parseMail(fi, f)
}

func parseMail(fi FileInfo, r io.Reader) (search.Mail, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return search.Mail{}, fmt.Errorf("parse %s: %w", fi.Path, err)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return search.Mail{}, fmt.Errorf("read body of %s: %w", fi.Path, err)
	}

	m := search.Mail{
		ID:        fi.Path,
		UpdatedAt: fi.ModTime,
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		Content:   string(body),
		To:        addressList(msg.Header, "To"),
		Cc:        addressList(msg.Header, "Cc"),
		Bcc:       addressList(msg.Header, "Bcc"),
		Labels:    labels(msg.Header),
	}
	if from := addressList(msg.Header, "From"); len(from) > 0 {
		m.From = from[0]
	}
	return m, nil
}

func decodeHeader(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// addressList is empty when the header is missing or malformed.
func addressList(h mail.Header, key string) []search.Address {
	addrs, err := h.AddressList(key)
	if err != nil {
		if !errors.Is(err, mail.ErrHeaderNotPresent) {
			return rawAddresses(h.Get(key))
		}
		return nil
	}
	return lo.Map(addrs, func(a *mail.Address, _ int) search.Address {
		return search.Address{Address: strings.ToLower(a.Address), Name: a.Name}
	})
}

// rawAddresses keeps whatever looks like an address in a header net/mail
// refuses to parse.
func rawAddresses(v string) []search.Address {
	parts := lo.Map(strings.Split(v, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.FilterMap(parts, func(p string, _ int) (search.Address, bool) {
		return search.Address{Address: strings.ToLower(strings.Trim(p, "<>"))}, strings.Contains(p, "@")
	})
}

func labels(h mail.Header) []string {
	var out []string
	for _, key := range []string{"X-Labels", "Keywords"} {
		for _, l := range strings.Split(decodeHeader(h.Get(key)), ",") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	}
	return lo.Uniq(out)
}
