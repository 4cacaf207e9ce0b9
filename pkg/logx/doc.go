// Package logx wraps zerolog behind a small Logger/Field API so components
// can take a value-type logger without binding to a concrete sink setup.
package logx
