package db

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

// ParameterizedSQLTemplate is a struct holding a parsed template with
// parameter names extracted and example values replaced by named parameters.
type ParameterizedSQLTemplate struct {
	Body       []byte
	Parameters []string
}

// String provides a printable representation.
func (p ParameterizedSQLTemplate) String() string {
	tpl := `
Params: %s
Body:   %s
`
	return fmt.Sprintf(tpl, strings.Join(p.Parameters, ", "), string(p.Body))
}

// paramLine matches an example value marked as a parameter, such as
//
//	,'site1.live' AS Source    /* @param */
//
// The example value is either a single quoted string or an unsigned integer,
// the only value kinds the history sql files declare.
var paramLine = regexp.MustCompile(
	`('[^']*'|\d+)(\s+AS\s+)(\w+)\s+/\* @param \*/`,
)

// parameterize takes an sql template with inline variable definitions,
// giving sqlite the declared variables it otherwise lacks while leaving
// the file runnable as is on the sqlite command line.
//
// Each variable is marked with `/* @param */`, for example:
//
//	WITH variables AS (
//	    SELECT
//	        'run-1' AS RunID          /* @param */
//	        ,20 AS RowLimit           /* @param */
//	)
//
// The example values are replaced with sqlx named parameters, the markers
// are dropped and the names are returned in order:
//
//	*ParameterizedSQLTemplate{
//	    Parameters: []string{"RunID", "RowLimit"},
//	    Body:       "... :RunID AS RunID ... ,:RowLimit AS RowLimit ...",
//	}
//
// A template without any marked variable, or declaring a name twice, is an
// error.
func parameterize(tpl []byte) (*ParameterizedSQLTemplate, error) {

	pst := &ParameterizedSQLTemplate{}
	seen := map[string]bool{}
	var dupe string

	pst.Body = paramLine.ReplaceAllFunc(tpl, func(match []byte) []byte {
		sub := paramLine.FindSubmatch(match)
		name := string(sub[3])
		if seen[name] && dupe == "" {
			dupe = name
		}
		seen[name] = true
		pst.Parameters = append(pst.Parameters, name)
		return []byte(":" + name + string(sub[2]) + name)
	})

	switch {
	case len(pst.Parameters) == 0:
		return nil, errors.New("parameterize: no parameters found")
	case dupe != "":
		return nil, fmt.Errorf("parameterize: parameter %q declared more than once", dupe)
	}
	return pst, nil
}

// ParameterizeFile takes an sql file and returns a
// ParameterizedSQLTemplate or error.
func ParameterizeFile(fileFS fs.FS, filePath string) (*ParameterizedSQLTemplate, error) {

	fileBytes, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	query, err := parameterize(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("query template error: %w", err)
	}
	return query, nil

}
