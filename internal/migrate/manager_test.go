package migrate

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestSplitStatements(t *testing.T) {
	sql := `
		create table meetings (id uuid primary key);
		insert into meetings(id) values ('a;b');
		create index idx on meetings(id)
	`
	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'a;b'") {
		t.Fatalf("semicolon inside string was split: %q", stmts[1])
	}
}

func TestCollectSQLOrdersByName(t *testing.T) {
	src := fstest.MapFS{
		"0002_votes.up.sql":  {Data: []byte("select 2;")},
		"0001_init.up.sql":   {Data: []byte("select 1;")},
		"0001_init.down.sql": {Data: []byte("select -1;")},
		"notes/readme.txt":   {Data: []byte("not sql")},
		"0003_expiry.up.sql": {Data: []byte("select 3;")},
	}
	files, err := collectSQL(src, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{"0001_init.up.sql", "0002_votes.up.sql", "0003_expiry.up.sql"}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}

func TestCollectSQLNilSource(t *testing.T) {
	files, err := collectSQL(nil, ".sql")
	if err != nil || files != nil {
		t.Fatalf("expected nil result, got %v, %v", files, err)
	}
}
