// Package smtpd implements the receiving side of an RFC 5321 SMTP session.
//
// A Session interprets one client's command stream: it enforces the
// HELO, MAIL, RCPT, DATA ordering, extracts reverse and forward paths,
// reassembles the dot-unstuffed message body and hands it to a MailStore.
// Recipients and VRFY requests are checked against a UserDirectory.
//
// Server accepts TCP connections and runs one Session per connection:
//
//	server, err := smtpd.New("mx.example.com").
//	    Addr(":2525").
//	    Directory(directory.NewStatic("alice@example.com")).
//	    Store(store.NewMailbox("/var/mail")).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(server.ListenAndServe())
//
// Only HELO, EHLO, MAIL, RCPT, DATA, RSET, NOOP, VRFY and QUIT are
// implemented. EXPN and HELP are answered with 502; no service extensions
// are advertised.
package smtpd
