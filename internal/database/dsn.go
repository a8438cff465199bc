package database

import (
	"net/url"
	"strconv"
)

// BusyTimeoutMillis lets a connection wait for another connection's lock
// instead of failing with SQLITE_BUSY.
const BusyTimeoutMillis = 5000

// FileURI builds a SQLite URI for path. The path is escaped, so '?', '#' and
// '%' stay part of the file name instead of starting the parameter list.
func FileURI(path string, params url.Values) string {
	u := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     path,
		RawQuery: params.Encode(),
	}
	return u.String()
}

// BusyTimeout is the driver parameter set shared by every connection.
func BusyTimeout() url.Values {
	return url.Values{"_busy_timeout": {strconv.Itoa(BusyTimeoutMillis)}}
}
