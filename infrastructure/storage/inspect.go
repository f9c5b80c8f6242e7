package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/mama165/sdk-go/database"
)

// InspectMapper renders directory records for the Badger debug inspector.
func InspectMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, userPrefix) {
		return row
	}
	user, err := decodeUser(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = "USER"
	row.Detail = fmt.Sprintf("%s first=%s last=%s",
		user.ID, user.FirstSeenAt.Format(time.RFC3339), user.LastSeenAt.Format(time.RFC3339))
	return row
}
