// Package ir defines the typed intermediate representation handed to the
// compilation core by the front end: compilation units, static type
// signatures (possibly unresolved), call sites, and the module dependency
// graph. The core never sees source text; every downstream decision —
// classification, specialization, marshalling, link planning — is a function
// of the structures in this package.
package ir
