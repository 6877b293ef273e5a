// Package table implements a small tagged-column table used for the
// statistics views assembled by the client and for the result tables
// carried inside procedure responses.
//
// A table is created with a fixed schema (ordered, typed columns) and rows
// are appended with per-value type checking. Tables are not safe for
// concurrent mutation; the producing side finishes a table before handing
// it out.
package table
