package rules

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSQLFilterFragments(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		wantSQL  string
		wantArgs int
	}{
		{
			name: "all joins with AND",
			criteria: Criteria{
				Conditions: []Condition{
					{Field: "total_spent", Operator: OpGreaterThan, Value: 500.0},
					{Field: "city", Operator: OpEquals, Value: "Lyon"},
				},
				MatchType: MatchAll,
			},
			wantSQL:  "(total_spent > $1) AND (city = $2)",
			wantArgs: 2,
		},
		{
			name: "any joins with OR",
			criteria: Criteria{
				Conditions: []Condition{
					{Field: "city", Operator: OpEquals, Value: "Lyon"},
					{Field: "city", Operator: OpEquals, Value: "Paris"},
				},
				MatchType: MatchAny,
			},
			wantSQL:  "(city = $1) OR (city = $2)",
			wantArgs: 2,
		},
		{
			name: "negated operators are null-safe",
			criteria: Criteria{
				Conditions: []Condition{
					{Field: "city", Operator: OpNotContains, Value: "port"},
				},
				MatchType: MatchAll,
			},
			wantSQL:  "(city IS NULL OR city NOT ILIKE $1)",
			wantArgs: 1,
		},
		{
			name: "in uses array binding",
			criteria: Criteria{
				Conditions: []Condition{
					{Field: "city", Operator: OpIn, Value: []any{"Lyon", "Paris"}},
				},
				MatchType: MatchAll,
			},
			wantSQL:  "(city = ANY($1))",
			wantArgs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, args, err := SQLFilter(tt.criteria, testSchema)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, gotSQL)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestSQLFilterEscapesLikePattern(t *testing.T) {
	cr := Criteria{
		Conditions: []Condition{{Field: "city", Operator: OpContains, Value: "50%_off"}},
		MatchType:  MatchAll,
	}
	_, args, err := SQLFilter(cr, testSchema)
	require.NoError(t, err)
	assert.Equal(t, `%50\%\_off%`, args[0])
}

// setupFilterTestDB connects to Postgres when one is reachable and prepares a
// scratch table, skipping otherwise.
func setupFilterTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgHost := os.Getenv("PGHOST")
	if pgHost == "" {
		pgHost = "localhost"
	}
	pgPort := os.Getenv("PGPORT")
	if pgPort == "" {
		pgPort = "5432"
	}
	pgUser := os.Getenv("PGUSER")
	if pgUser == "" {
		pgUser = "user"
	}
	pgPassword := os.Getenv("PGPASSWORD")
	if pgPassword == "" {
		pgPassword = "password"
	}
	pgDB := os.Getenv("PGDATABASE")
	if pgDB == "" {
		pgDB = "testdb"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping equivalence test: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS filter_equivalence_rows (
			id SERIAL PRIMARY KEY,
			total_spent DOUBLE PRECISION,
			city TEXT,
			email TEXT
		);
		TRUNCATE filter_equivalence_rows RESTART IDENTITY;
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

// The bulk-query path and the in-memory predicate must agree on every row.
// Random rows (including NULLs) and random criteria go to both paths; any
// divergence is a bug in one of them.
func TestSQLFilterMatchesInMemoryPredicate(t *testing.T) {
	db := setupFilterTestDB(t)
	defer db.Close()

	schema := Schema{
		"total_spent": KindNumeric,
		"city":        KindText,
		"email":       KindFreeText,
	}

	rapid.Check(t, func(rt *rapid.T) {
		if _, err := db.Exec("TRUNCATE filter_equivalence_rows RESTART IDENTITY"); err != nil {
			rt.Fatalf("truncate: %v", err)
		}

		n := rapid.IntRange(1, 12).Draw(rt, "rows")
		records := make(map[int64]Record, n)
		for i := 0; i < n; i++ {
			rec := Record{}
			var spent sql.NullFloat64
			var city, email sql.NullString
			if rapid.Bool().Draw(rt, "has_spent") {
				spent = sql.NullFloat64{Float64: float64(rapid.IntRange(-5, 5).Draw(rt, "spent")), Valid: true}
				rec["total_spent"] = spent.Float64
			}
			if rapid.Bool().Draw(rt, "has_city") {
				city = sql.NullString{String: rapid.SampledFrom([]string{"aa", "bb", "cc", "ab"}).Draw(rt, "city"), Valid: true}
				rec["city"] = city.String
			}
			if rapid.Bool().Draw(rt, "has_email") {
				email = sql.NullString{String: rapid.SampledFrom([]string{"X@a", "y@B", "z@c"}).Draw(rt, "email"), Valid: true}
				rec["email"] = email.String
			}

			var id int64
			err := db.QueryRow(
				"INSERT INTO filter_equivalence_rows (total_spent, city, email) VALUES ($1, $2, $3) RETURNING id",
				spent, city, email,
			).Scan(&id)
			if err != nil {
				rt.Fatalf("insert: %v", err)
			}
			records[id] = rec
		}

		nc := rapid.IntRange(1, 3).Draw(rt, "conditions")
		conditions := make([]Condition, nc)
		for i := range conditions {
			conditions[i] = genCondition(rt)
		}
		mt := rapid.SampledFrom([]MatchType{MatchAll, MatchAny}).Draw(rt, "match_type")
		cr := Criteria{Conditions: conditions, MatchType: mt}

		where, args, err := SQLFilter(cr, schema)
		if err != nil {
			rt.Fatalf("sql filter: %v", err)
		}
		rows, err := db.Query("SELECT id FROM filter_equivalence_rows WHERE "+where, args...)
		if err != nil {
			rt.Fatalf("query: %v", err)
		}
		defer rows.Close()

		sqlMatched := map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rt.Fatalf("scan: %v", err)
			}
			sqlMatched[id] = true
		}
		if err := rows.Err(); err != nil {
			rt.Fatalf("rows: %v", err)
		}

		pred, err := Compile(cr, schema)
		if err != nil {
			rt.Fatalf("compile: %v", err)
		}
		for id, rec := range records {
			want, err := pred(rec)
			if err != nil {
				rt.Fatalf("predicate: %v", err)
			}
			if sqlMatched[id] != want {
				rt.Fatalf("row %d: sql=%v memory=%v criteria=%+v record=%+v", id, sqlMatched[id], want, cr, rec)
			}
		}
	})
}
