// Package builder turns normalized content into unsigned events. All
// functions are pure apart from reading the clock when no original timestamp
// is supplied.
package builder
