// Package llm defines the language-model backend boundary. Every provider
// adapter turns its raw payload into text and hands it to Normalize, so
// callers only ever see a *Result and never branch on provider shapes.
package llm
