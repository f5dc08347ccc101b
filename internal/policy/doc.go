// package policy evaluates candidate blocks against a playlist's rule set
//
// Every validator is a pure function over candidates, active tracks, history, and rules.
// [ValidateAll] concatenates their results without short-circuiting. Malformed rules
// (distributions that do not add up, contradictory languages) surface as violations.
package policy
