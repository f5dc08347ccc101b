// package enrich derives year, decade, language, and genre attributes for tracks
//
// Release years come from provider release dates. Language and genre tags come from a [Classifier];
// the default [Heuristic] combines market availability, title function words, and a known-artist table.
package enrich
