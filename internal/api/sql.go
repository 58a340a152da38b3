package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/metrics"
)

var (
	ErrEmptyQuery      = errors.New("query is empty")
	ErrMultipleQueries = errors.New("only a single statement is allowed")
	ErrNotSelect       = errors.New("only SELECT or WITH queries are allowed")
	ErrComment         = errors.New("comments are not allowed")
	ErrUnterminated    = errors.New("unterminated quoted string or identifier")
	ErrQuoting         = errors.New("escape and dollar-quoted strings are not allowed")
)

// forbiddenKeywords covers statements and functions that write, lock or
// reach outside the database.
var forbiddenKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|into|drop|alter|create|truncate|grant|revoke|copy|call|do|vacuum|analyze|reindex|cluster|lock|set|reset|listen|notify|unlisten|prepare|execute|deallocate|discard|refresh|comment|security|pg_sleep|pg_terminate_backend|pg_cancel_backend|pg_read_file|pg_read_binary_file|pg_ls_dir|lo_import|lo_export|dblink)\b`)

var leadingKeyword = regexp.MustCompile(`(?i)^(select|with)\b`)

type sqlRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit,omitempty"`
}

type sqlResponse struct {
	*database.QueryResult
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// ForbiddenKeywordError names the keyword that caused a query to be rejected.
type ForbiddenKeywordError struct {
	Keyword string
}

func (e *ForbiddenKeywordError) Error() string {
	return "keyword not allowed: " + strings.ToUpper(e.Keyword)
}

// validateSQL accepts a single read statement and returns it without the
// optional trailing semicolon. The checks run on the query with string
// literal contents removed, so 'set' or '%lock%' in a WHERE clause pass.
func validateSQL(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return "", ErrEmptyQuery
	}
	code, err := stripLiterals(q)
	if err != nil {
		return "", err
	}
	if strings.Contains(code, "--") || strings.Contains(code, "/*") {
		return "", ErrComment
	}
	if strings.Contains(code, ";") {
		return "", ErrMultipleQueries
	}
	if !leadingKeyword.MatchString(code) {
		return "", ErrNotSelect
	}
	if m := forbiddenKeywords.FindString(code); m != "" {
		return "", &ForbiddenKeywordError{Keyword: m}
	}
	return q, nil
}

// stripLiterals empties every '...' literal, honouring doubled quotes.
// Quoted identifiers are kept as written. Escape strings (E'...') and dollar quoting
// would need a full lexer to strip safely and are rejected instead.
func stripLiterals(q string) (string, error) {
	var b strings.Builder
	b.Grow(len(q))
	inString, inIdent := false, false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case inString:
			if c != '\'' {
				continue
			}
			if i+1 < len(q) && q[i+1] == '\'' {
				i++
				continue
			}
			inString = false
			b.WriteByte(c)
		case inIdent:
			b.WriteByte(c)
			if c == '"' {
				inIdent = false
			}
		case c == '\'':
			if i > 0 && (q[i-1] == 'e' || q[i-1] == 'E') && (i == 1 || !isIdentByte(q[i-2])) {
				return "", ErrQuoting
			}
			inString = true
			b.WriteByte(c)
		case c == '"':
			inIdent = true
			b.WriteByte(c)
		case c == '$' && i+1 < len(q) && (q[i+1] == '$' || isIdentByte(q[i+1]) && !isDigit(q[i+1])):
			return "", ErrQuoting
		default:
			b.WriteByte(c)
		}
	}
	if inString || inIdent {
		return "", ErrUnterminated
	}
	return b.String(), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (s *APIServer) handleSQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sqlRequest
	if err := decodeBody(w, r, &req); err != nil {
		metrics.SQLQueries.WithLabelValues("bad_request").Inc()
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query, err := validateSQL(req.SQL)
	if err != nil {
		metrics.SQLQueries.WithLabelValues("rejected").Inc()
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	maxRows := s.opts.SQLMaxRows
	if req.Limit > 0 && req.Limit < maxRows {
		maxRows = req.Limit
	}

	start := time.Now()
	result, err := database.ExecuteReadOnly(r.Context(), s.db, query, maxRows, s.opts.SQLTimeout)
	elapsed := time.Since(start)
	if err != nil {
		metrics.SQLQueries.WithLabelValues("error").Inc()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			s.logger.Debug().Err(err).Str("code", pgErr.Code).Msg("Query failed")
			Error(w, http.StatusBadRequest, pgErr.Message)
			return
		}
		s.logger.Error().Err(err).Msg("Query failed")
		Error(w, http.StatusInternalServerError, "query failed")
		return
	}

	metrics.SQLQueries.WithLabelValues("ok").Inc()
	s.logger.Debug().
		Int("rows", result.RowCount).
		Dur("duration", elapsed).
		Msg("Query served")
	JSON(w, http.StatusOK, sqlResponse{QueryResult: result, ExecutionTimeMs: elapsed.Milliseconds()}, nil)
}
