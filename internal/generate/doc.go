// Package generate produces assistant replies from an assembled turn context
// through interchangeable reasoning backends. Vendor-specific prompt
// formatting lives here so the context-assembly logic stays vendor-agnostic.
package generate
