// Package verifier parses EIP-4361 (Sign-In with Ethereum) and the matching
// Sign-In with Solana messages and checks wallet signatures over them.
package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/layer-3/signet/core"
)

const (
	fieldURI            = "URI: "
	fieldVersion        = "Version: "
	fieldChainID        = "Chain ID: "
	fieldNonce          = "Nonce: "
	fieldIssuedAt       = "Issued At: "
	fieldExpirationTime = "Expiration Time: "
	fieldNotBefore      = "Not Before: "
	fieldRequestID      = "Request ID: "
	fieldResources      = "Resources:"
)

var headerPattern = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+\-.]*://)?(\S+) wants you to sign in with your (Ethereum|Solana) account:$`)

// nonces must be at least 8 alphanumeric characters
var noncePattern = regexp.MustCompile(`^[a-zA-Z0-9]{8,}$`)

var chainNames = map[string]core.Chain{
	"Ethereum": core.ChainEthereum,
	"Solana":   core.ChainSolana,
}

var headerNames = map[core.Chain]string{
	core.ChainEthereum: "Ethereum",
	core.ChainSolana:   "Solana",
}

// ParseMessage parses a sign-in message. The returned message keeps the raw
// text because signatures are checked against the exact signed bytes.
func ParseMessage(raw string) (*core.SignedMessage, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: too short", core.ErrMalformedMessage)
	}

	header := headerPattern.FindStringSubmatch(lines[0])
	if header == nil {
		return nil, fmt.Errorf("%w: bad header", core.ErrMalformedMessage)
	}
	msg := &core.SignedMessage{
		Domain:  header[1],
		Chain:   chainNames[header[2]],
		Address: strings.TrimSpace(lines[1]),
		Raw:     raw,
	}

	i := skipBlank(lines, 2)
	if i < len(lines) && !isField(lines[i]) {
		msg.Statement = lines[i]
		i = skipBlank(lines, i+1)
	}

	for ; i < len(lines); i++ {
		line := lines[i]
		var err error
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, fieldURI):
			msg.URI = strings.TrimPrefix(line, fieldURI)
		case strings.HasPrefix(line, fieldVersion):
			msg.Version = strings.TrimPrefix(line, fieldVersion)
		case strings.HasPrefix(line, fieldChainID):
			msg.ChainID = strings.TrimPrefix(line, fieldChainID)
		case strings.HasPrefix(line, fieldNonce):
			msg.Nonce = strings.TrimPrefix(line, fieldNonce)
		case strings.HasPrefix(line, fieldIssuedAt):
			msg.IssuedAt, err = parseTime(strings.TrimPrefix(line, fieldIssuedAt))
		case strings.HasPrefix(line, fieldExpirationTime):
			msg.ExpirationTime, err = parseTime(strings.TrimPrefix(line, fieldExpirationTime))
		case strings.HasPrefix(line, fieldNotBefore):
			msg.NotBefore, err = parseTime(strings.TrimPrefix(line, fieldNotBefore))
		case strings.HasPrefix(line, fieldRequestID):
			msg.RequestID = strings.TrimPrefix(line, fieldRequestID)
		case line == fieldResources:
			for i+1 < len(lines) && strings.HasPrefix(lines[i+1], "- ") {
				i++
				msg.Resources = append(msg.Resources, strings.TrimPrefix(lines[i], "- "))
			}
		default:
			return nil, fmt.Errorf("%w: unexpected line %q", core.ErrMalformedMessage, line)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
		}
	}

	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validate(msg *core.SignedMessage) error {
	switch {
	case msg.URI == "":
		return fmt.Errorf("%w: missing URI", core.ErrMalformedMessage)
	case msg.Version != "1":
		return fmt.Errorf("%w: unsupported version %q", core.ErrMalformedMessage, msg.Version)
	case !noncePattern.MatchString(msg.Nonce):
		return fmt.Errorf("%w: bad nonce", core.ErrMalformedMessage)
	case msg.Chain == core.ChainEthereum && msg.ChainID == "":
		return fmt.Errorf("%w: missing chain id", core.ErrMalformedMessage)
	}
	if _, err := NormalizeAddress(msg.Chain, msg.Address); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	return nil
}

// FormatMessage renders a message in the canonical layout wallets sign.
func FormatMessage(msg core.SignedMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your %s account:\n", msg.Domain, headerNames[msg.Chain])
	b.WriteString(msg.Address)
	b.WriteString("\n\n")
	if msg.Statement != "" {
		b.WriteString(msg.Statement)
		b.WriteString("\n\n")
	}

	fields := []string{fieldURI + msg.URI, fieldVersion + msg.Version}
	if msg.ChainID != "" {
		fields = append(fields, fieldChainID+msg.ChainID)
	}
	fields = append(fields, fieldNonce+msg.Nonce)
	if !msg.IssuedAt.IsZero() {
		fields = append(fields, fieldIssuedAt+formatTime(msg.IssuedAt))
	}
	if !msg.ExpirationTime.IsZero() {
		fields = append(fields, fieldExpirationTime+formatTime(msg.ExpirationTime))
	}
	if !msg.NotBefore.IsZero() {
		fields = append(fields, fieldNotBefore+formatTime(msg.NotBefore))
	}
	if msg.RequestID != "" {
		fields = append(fields, fieldRequestID+msg.RequestID)
	}
	if len(msg.Resources) > 0 {
		fields = append(fields, fieldResources)
		for _, r := range msg.Resources {
			fields = append(fields, "- "+r)
		}
	}
	b.WriteString(strings.Join(fields, "\n"))
	return b.String()
}

// CheckTimeBounds rejects messages past their expiration time or before their not-before time.
func CheckTimeBounds(msg *core.SignedMessage, now time.Time) error {
	if !msg.ExpirationTime.IsZero() && !now.Before(msg.ExpirationTime) {
		return core.ErrMessageExpired
	}
	if !msg.NotBefore.IsZero() && now.Before(msg.NotBefore) {
		return core.ErrMessageExpired
	}
	return nil
}

func isField(line string) bool {
	for _, prefix := range []string{fieldURI, fieldVersion, fieldChainID, fieldNonce, fieldIssuedAt} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && lines[i] == "" {
		i++
	}
	return i
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
