// Package main is the turmoilwatch binary. It scrapes a news homepage on a
// timer, decides whether markets are "in turmoil", and serves the answer as a
// static HTML page.
//
// Commands:
//
//	turmoilwatch serve   run the scheduler and HTTP server
//	turmoilwatch check   run a single cycle and print the result
//	turmoilwatch score   explain the doom score of headline text
package main
