// Package output renders crawl results as a human readable link report or as
// JSON lines, to stdout or a file.
package output
