package stats

import "strings"

// DeriveVersionKey maps a release version to the ledger table that stores its
// statistics: "1.0" becomes "stats_1_0".
//
// Versions that differ only in separator style ("1.0" and "1_0") share a key;
// the ledger catalogue rejects the second one with ErrVersionCollision.
func DeriveVersionKey(version string) string {
	return "stats_" + strings.ReplaceAll(version, ".", "_")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
