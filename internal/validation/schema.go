// Package validation checks exchange documents against their embedded JSON
// Schema before they are imported.
package validation

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed exchange.schema.json
var exchangeSchemaJSON string

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

// exchangeSchema is the compiled JSON Schema for exchange documents.
var exchangeSchema = mustCompileSchema(exchangeSchemaJSON, "exchange.schema.json")

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// ExchangeSchema returns the raw schema, for documentation output.
func ExchangeSchema() string {
	return exchangeSchemaJSON
}

// ValidateExchangeBytes validates a JSON exchange document. It returns one
// message per violated constraint, or nil when the document is valid.
func ValidateExchangeBytes(data []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}
	return validateAgainstSchema(exchangeSchema, doc)
}

// Error bundles schema violations into a single error.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid exchange document: %s", strings.Join(e.Problems, "; "))
}

// ErrorKind classifies schema violations as validation failures.
func (e *Error) ErrorKind() string { return "validation" }

// ValidateExchange is ValidateExchangeBytes returning an *Error.
func ValidateExchange(data []byte) error {
	if errs := ValidateExchangeBytes(data); len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

func validateAgainstSchema(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}
