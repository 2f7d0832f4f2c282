package service

import (
	"math"
	"time"

	"github.com/spaolacci/murmur3"
)

// Fingerprint hashes the grouping key of a violation. Reports with the
// same directive and normalized blocked host within a project fold into
// one group. The NUL separator keeps ("a", "bc") and ("ab", "c") apart.
func Fingerprint(directive, blockedHost string) int64 {
	h := murmur3.Sum64([]byte(directive + "\x00" + blockedHost))
	return int64(h)
}

// Score ranks a group for the priority sort: how loud it is, weighted
// by how recently it fired. Matches the expression the fold query
// computes in SQL.
func Score(timesSeen int64, lastSeen time.Time) int64 {
	if timesSeen < 1 {
		timesSeen = 1
	}
	return int64(math.Log10(float64(timesSeen))*600) + lastSeen.Unix()
}
