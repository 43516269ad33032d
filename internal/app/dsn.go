package app

import (
	"net/url"
	"strings"

	"github.com/betzim/mediameter/internal/db"
)

// DescribeDSN renders a DSN for logs with credentials removed.
func DescribeDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "unset"
	}
	if db.IsSQLiteDSN(trimmed) {
		pathPart := strings.TrimPrefix(strings.TrimPrefix(trimmed, "sqlite://"), "file:")
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return "sqlite:" + strings.TrimSpace(pathPart)
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil || u.Host == "" {
		return "postgres:<unparsed>"
	}
	host := u.Hostname()
	if port := u.Port(); port != "" {
		host += ":" + port
	} else {
		host += ":5432"
	}
	user := ""
	if u.User != nil {
		user = u.User.Username() + "@"
	}
	return "postgres:" + user + host + "/" + strings.TrimPrefix(u.Path, "/")
}
