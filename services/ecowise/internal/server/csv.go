package server

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"ecowise/pkg/domain"
)

const csvHeader = "id,username,created_at\n"

// encodeUsersCSV renders the user export. Usernames are always quoted so the
// column is unambiguous for any input; created_at is RFC 3339 in UTC.
func encodeUsersCSV(users []domain.User) []byte {
	var buf bytes.Buffer
	buf.Grow(len(csvHeader) + len(users)*48)
	buf.WriteString(csvHeader)
	for _, u := range users {
		buf.WriteString(strconv.FormatInt(u.ID, 10))
		buf.WriteByte(',')
		buf.WriteString(quoteCSV(u.Username))
		buf.WriteByte(',')
		buf.WriteString(u.CreatedAt.UTC().Format(time.RFC3339))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func quoteCSV(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
