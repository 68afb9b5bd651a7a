package smtpd

import (
	"strings"
)

// Command is a canonical (upper-case) SMTP verb.
type Command string

const (
	CmdHelo Command = "HELO"
	CmdEhlo Command = "EHLO"
	CmdMail Command = "MAIL"
	CmdRcpt Command = "RCPT"
	CmdData Command = "DATA"
	CmdRset Command = "RSET"
	CmdNoop Command = "NOOP"
	CmdVrfy Command = "VRFY"
	CmdQuit Command = "QUIT"
	CmdExpn Command = "EXPN"
	CmdHelp Command = "HELP"
)

// commands is the fixed verb set, in the order RFC 5321 lists them.
var commands = []Command{
	CmdHelo, CmdEhlo, CmdMail, CmdRcpt, CmdData, CmdRset,
	CmdNoop, CmdVrfy, CmdQuit, CmdExpn, CmdHelp,
}

// parseCommand splits a command line into a verb and its argument words.
// A blank line yields ErrEmptyCommand; a verb outside the fixed set yields
// ErrUnknownCommand.
func parseCommand(line string) (cmd Command, args []string, err error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return "", nil, ErrEmptyCommand
	}

	cmd, ok := canonicalizeVerb(words[0])
	if !ok {
		return "", nil, ErrUnknownCommand
	}
	return cmd, words[1:], nil
}

// canonicalizeVerb matches verb case-insensitively and exactly; there is no
// prefix or abbreviation matching.
func canonicalizeVerb(verb string) (Command, bool) {
	if len(verb) != 4 {
		return "", false
	}
	for _, c := range commands {
		if strings.EqualFold(verb, string(c)) {
			return c, true
		}
	}
	return "", false
}

const (
	reversePathPrefix = "FROM:<"
	forwardPathPrefix = "TO:<"
)

// ParseReversePath extracts the path from a MAIL argument of the form
// FROM:<path>. The prefix is matched case-insensitively. The null path
// FROM:<> yields an empty string.
func ParseReversePath(arg string) (string, error) {
	return extractPath(arg, reversePathPrefix)
}

// ParseForwardPath extracts the path from a RCPT argument of the form TO:<path>.
func ParseForwardPath(arg string) (string, error) {
	return extractPath(arg, forwardPathPrefix)
}

// extractPath returns what lies strictly between prefix and a closing '>'.
// Arguments too short to hold both are rejected before any slicing.
func extractPath(arg, prefix string) (string, error) {
	if len(arg) < len(prefix)+len(">") {
		return "", ErrSyntax
	}
	if !strings.EqualFold(arg[:len(prefix)], prefix) || arg[len(arg)-1] != '>' {
		return "", ErrSyntax
	}
	return arg[len(prefix) : len(arg)-1], nil
}
