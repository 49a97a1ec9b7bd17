// Package storage persists the poller's state between runs: the last structure
// snapshot, the set of notification IDs already alerted, the message refs of
// the rolling structure list and the SSO credentials.
//
// Two drivers exist: "file" (plain files next to each other, atomic rename on
// overwrite) and "sqlite".
package storage
