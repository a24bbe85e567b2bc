// Package recipient turns registry contract events into recipient records
// and holds the rule that derives a recipient's hidden and locked flags for
// a funding round.
package recipient
