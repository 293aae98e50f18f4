package ftp

import (
	"strconv"
	"strings"
)

// Reply is one FTP control-channel response. Multi-line replies use the
// RFC 959 framing: "CODE-first", bare middle lines, "CODE last".
type Reply struct {
	Code  int
	Lines []string
}

func NewReply(code int, lines ...string) Reply {
	if len(lines) == 0 {
		lines = []string{""}
	}
	return Reply{Code: code, Lines: lines}
}

// Protocol renders the reply with CRLF line endings.
func (r Reply) Protocol() string {
	var b strings.Builder
	code := strconv.Itoa(r.Code)
	if len(r.Lines) <= 1 {
		line := ""
		if len(r.Lines) == 1 {
			line = r.Lines[0]
		}
		b.WriteString(code)
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\r\n")
		return b.String()
	}
	for i, line := range r.Lines {
		switch i {
		case 0:
			b.WriteString(code)
			b.WriteString("-")
			b.WriteString(line)
		case len(r.Lines) - 1:
			b.WriteString(code)
			b.WriteString(" ")
			b.WriteString(line)
		default:
			b.WriteString(line)
		}
		b.WriteString("\r\n")
	}
	return b.String()
}

func replyOK(code int, msg string) Reply    { return NewReply(code, msg) }
func replyError(code int, msg string) Reply { return NewReply(code, msg) }

func needLogin() Reply          { return replyError(530, "Please login first.") }
func loginWithUserFirst() Reply { return replyError(530, "Login with USER first.") }
func loginIncorrect() Reply     { return replyError(530, "Login incorrect.") }
func permissionDenied() Reply   { return replyError(550, "Permission denied.") }
func accessDenied() Reply       { return replyError(550, "Access denied.") }
func usePasvFirst() Reply       { return replyError(425, "Use PASV first.") }
func transferComplete() Reply   { return replyOK(226, "Transfer complete.") }
func directorySendOK() Reply    { return replyOK(226, "Directory send OK.") }
func transferAborted() Reply    { return replyError(426, "Connection closed; transfer aborted.") }
func localError() Reply         { return replyError(451, "Requested action aborted. Local error.") }
func missingFileName() Reply    { return replyError(501, "Missing file name.") }
func missingDirName() Reply     { return replyError(501, "Directory name required.") }
func syntaxError() Reply        { return replyError(501, "Syntax error in parameters.") }
func fileNotFound() Reply       { return replyError(550, "File not found.") }
func notImplemented() Reply     { return replyError(502, "Command not implemented.") }
func emptyCommand() Reply       { return replyError(500, "Empty command") }
func goodbye() Reply            { return replyOK(221, "Goodbye.") }
func directoryChanged() Reply   { return replyOK(250, "Directory successfully changed.") }
