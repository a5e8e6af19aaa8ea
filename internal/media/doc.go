// Package media fetches source media (with a content-hash byte cache and an
// optional authenticated proxy) and uploads it to a content-addressed host
// using short-lived signed authorization grants.
package media
