package host

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Execer runs a console command and returns the reply, as rcon.Client does.
type Execer interface {
	Exec(ctx context.Context, command string) (string, error)
}

// RCONRoster refreshes a Roster from the server's "list" reply.
type RCONRoster struct {
	conn   Execer
	roster *Roster
}

func NewRCONRoster(conn Execer, roster *Roster) *RCONRoster {
	return &RCONRoster{conn: conn, roster: roster}
}

// Refresh queries the server. On failure the previous roster is kept.
func (rr *RCONRoster) Refresh(ctx context.Context) error {
	reply, err := rr.conn.Exec(ctx, "list")
	if err != nil {
		return fmt.Errorf("rcon list: %w", err)
	}
	names, err := ParsePlayerList(reply)
	if err != nil {
		return err
	}
	rr.roster.Replace(names)
	return nil
}

var (
	colorCodes = regexp.MustCompile(`§.`)
	listHeader = regexp.MustCompile(`(?i)there are \d+\s*(?:of a max of|out of maximum|/)\s*\d+ players online`)
)

// ParsePlayerList extracts names from a vanilla or Paper "list" reply, e.g.
// "There are 2 of a max of 20 players online: Alice, Bob".
func ParsePlayerList(reply string) ([]string, error) {
	reply = colorCodes.ReplaceAllString(reply, "")
	m := listHeader.FindStringSubmatchIndex(reply)
	if m == nil {
		return nil, fmt.Errorf("unrecognized list reply %q", reply)
	}
	rest := reply[m[1]:]
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return nil, nil
	}

	var names []string
	for _, field := range strings.FieldsFunc(rest[i+1:], func(r rune) bool {
		return r == ',' || r == '\n' || r == ' '
	}) {
		// Group prefixes such as "default: Alice" on Paper.
		if strings.HasSuffix(field, ":") {
			continue
		}
		names = append(names, field)
	}
	return names, nil
}
