package export

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// renderAnki packs the card-shaped artifacts into a .apkg deck: a zip holding
// an Anki 2 SQLite collection plus an empty media manifest. The collection is
// staged in a temp file because SQLite needs a real database file.
func renderAnki(b *Bundle) ([]byte, string, error) {
	dir, err := os.MkdirTemp("", "aulavox-apkg-")
	if err != nil {
		return nil, "", fmt.Errorf("anki: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "collection.anki2")
	if err := buildCollection(path, b, deckCards(b)); err != nil {
		return nil, "", fmt.Errorf("anki: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("anki: read collection: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range []struct {
		name string
		body []byte
	}{
		{"collection.anki2", raw},
		{"media", []byte("{}")},
	} {
		f, err := zw.Create(part.name)
		if err != nil {
			return nil, "", fmt.Errorf("anki: create %s: %w", part.name, err)
		}
		if _, err := f.Write(part.body); err != nil {
			return nil, "", fmt.Errorf("anki: write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("anki: %w", err)
	}
	return buf.Bytes(), "application/octet-stream", nil
}

// ankiCard is one front/back pair. Fields are HTML, already escaped.
type ankiCard struct {
	front string
	back  string
	tags  string
}

// deckCards flattens the bundle into front/back pairs: memo cards first, then
// researched definitions. Duplicate fronts are dropped.
func deckCards(b *Bundle) []ankiCard {
	cards := make([]ankiCard, 0, len(b.Memos)+len(b.Research))
	seen := make(map[string]struct{})
	add := func(c ankiCard) {
		key := strings.ToLower(strings.TrimSpace(c.front))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		cards = append(cards, c)
	}

	for _, m := range b.Memos {
		tags := append([]string{string(m.Type), string(m.Difficulty)}, m.Tags...)
		add(ankiCard{
			front: html.EscapeString(m.Question),
			back:  html.EscapeString(m.Answer),
			tags:  ankiTags(tags),
		})
	}
	for _, r := range b.Research {
		if r.Definition.Text == "" {
			continue
		}
		back := html.EscapeString(r.Definition.Text)
		if len(r.Synonyms) > 0 {
			back += "<br><br><i>" + html.EscapeString("Synonyms: "+strings.Join(r.Synonyms, ", ")) + "</i>"
		}
		add(ankiCard{
			front: html.EscapeString(r.Term),
			back:  back,
			tags:  ankiTags([]string{"research"}),
		})
	}
	return cards
}

// ankiTags renders the tag field: space separated with surrounding spaces,
// spaces inside a tag collapsed to underscores.
func ankiTags(tags []string) string {
	norm := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		norm = append(norm, strings.ReplaceAll(t, " ", "_"))
	}
	if len(norm) == 0 {
		return ""
	}
	return " " + strings.Join(norm, " ") + " "
}

// buildCollection writes a complete Anki 2 collection database. Identifiers
// follow the epoch-millisecond convention of Anki's own exporter.
func buildCollection(path string, b *Bundle, cards []ankiCard) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close collection: %w", cerr)
		}
	}()

	if _, err = db.Exec(ankiSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	ms := b.GeneratedAt.UnixMilli()
	sec := b.GeneratedAt.Unix()
	mid := ms
	did := ms + 1

	deckName, err := json.Marshal(b.Title())
	if err != nil {
		return fmt.Errorf("encode deck name: %w", err)
	}
	if _, err = db.Exec(
		`INSERT INTO col VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		sec, ms, ms,
		ankiConf(mid, did),
		ankiModels(mid, did, sec),
		ankiDecks(did, string(deckName), sec),
		ankiDconf,
	); err != nil {
		return fmt.Errorf("insert col: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	noteStmt, err := tx.Prepare(`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
VALUES (?, ?, ?, ?, -1, ?, ?, ?, ?, 0, '')`)
	if err != nil {
		return fmt.Errorf("prepare notes: %w", err)
	}
	defer noteStmt.Close()

	cardStmt, err := tx.Prepare(`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
VALUES (?, ?, ?, 0, ?, -1, 0, 0, ?, 0, 2500, 0, 0, 0, 0, 0, 0, '')`)
	if err != nil {
		return fmt.Errorf("prepare cards: %w", err)
	}
	defer cardStmt.Close()

	for i, c := range cards {
		noteID := ms + int64(i)
		flds := c.front + "\x1f" + c.back
		if _, err = noteStmt.Exec(noteID, noteGUID(b.Session.ID, c.front), mid, sec, c.tags, flds, c.front, fieldChecksum(c.front)); err != nil {
			return fmt.Errorf("insert note %d: %w", i, err)
		}
		if _, err = cardStmt.Exec(ms+100000+int64(i), noteID, did, sec, i+1); err != nil {
			return fmt.Errorf("insert card %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// noteGUID derives a stable per-session guid so re-importing a regenerated
// deck replaces notes instead of duplicating them.
func noteGUID(classSessionID, front string) string {
	sum := sha1.Sum([]byte(classSessionID + "\x1f" + front))
	return fmt.Sprintf("%x", sum[:5])
}

// fieldChecksum is the integer value of the first eight hex digits of the
// SHA1 of the sort field, matching the dedupe checksum Anki computes.
func fieldChecksum(s string) int64 {
	sum := sha1.Sum([]byte(s))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

const ankiSchema = `
CREATE TABLE col (
	id     integer PRIMARY KEY,
	crt    integer NOT NULL,
	mod    integer NOT NULL,
	scm    integer NOT NULL,
	ver    integer NOT NULL,
	dty    integer NOT NULL,
	usn    integer NOT NULL,
	ls     integer NOT NULL,
	conf   text NOT NULL,
	models text NOT NULL,
	decks  text NOT NULL,
	dconf  text NOT NULL,
	tags   text NOT NULL
);
CREATE TABLE notes (
	id    integer PRIMARY KEY,
	guid  text NOT NULL,
	mid   integer NOT NULL,
	mod   integer NOT NULL,
	usn   integer NOT NULL,
	tags  text NOT NULL,
	flds  text NOT NULL,
	sfld  integer NOT NULL,
	csum  integer NOT NULL,
	flags integer NOT NULL,
	data  text NOT NULL
);
CREATE TABLE cards (
	id     integer PRIMARY KEY,
	nid    integer NOT NULL,
	did    integer NOT NULL,
	ord    integer NOT NULL,
	mod    integer NOT NULL,
	usn    integer NOT NULL,
	type   integer NOT NULL,
	queue  integer NOT NULL,
	due    integer NOT NULL,
	ivl    integer NOT NULL,
	factor integer NOT NULL,
	reps   integer NOT NULL,
	lapses integer NOT NULL,
	left   integer NOT NULL,
	odue   integer NOT NULL,
	odid   integer NOT NULL,
	flags  integer NOT NULL,
	data   text NOT NULL
);
CREATE TABLE revlog (
	id      integer PRIMARY KEY,
	cid     integer NOT NULL,
	usn     integer NOT NULL,
	ease    integer NOT NULL,
	ivl     integer NOT NULL,
	lastIvl integer NOT NULL,
	factor  integer NOT NULL,
	time    integer NOT NULL,
	type    integer NOT NULL
);
CREATE TABLE graves (
	usn  integer NOT NULL,
	oid  integer NOT NULL,
	type integer NOT NULL
);
CREATE INDEX ix_notes_usn ON notes (usn);
CREATE INDEX ix_cards_usn ON cards (usn);
CREATE INDEX ix_revlog_usn ON revlog (usn);
CREATE INDEX ix_cards_nid ON cards (nid);
CREATE INDEX ix_cards_sched ON cards (did, queue, due);
CREATE INDEX ix_revlog_cid ON revlog (cid);
CREATE INDEX ix_notes_csum ON notes (csum);
`

func ankiConf(mid, did int64) string {
	return fmt.Sprintf(`{"nextPos":1,"estTimes":true,"activeDecks":[%d],"sortType":"noteFld","timeLim":0,"sortBackwards":false,"addToCur":true,"curDeck":%d,"newBury":true,"newSpread":0,"dueCounts":true,"curModel":"%d","collapseTime":1200}`, did, did, mid)
}

func ankiModels(mid, did, mod int64) string {
	return fmt.Sprintf(`{"%d":{"id":%d,"name":"Aulavox Q/A","type":0,"mod":%d,"usn":-1,"sortf":0,"did":%d,"tmpls":[{"name":"Card 1","ord":0,"qfmt":"{{Front}}","afmt":"{{FrontSide}}<hr id=answer>{{Back}}","bqfmt":"","bafmt":"","did":null}],"flds":[{"name":"Front","ord":0,"sticky":false,"rtl":false,"font":"Arial","size":20,"media":[]},{"name":"Back","ord":1,"sticky":false,"rtl":false,"font":"Arial","size":20,"media":[]}],"css":".card{font-family:arial;font-size:20px;text-align:center;color:black;background-color:white}","latexPre":"","latexPost":"","req":[[0,"all",[0]]]}}`, mid, mid, mod, did)
}

func ankiDecks(did int64, quotedName string, mod int64) string {
	return fmt.Sprintf(`{"1":{"id":1,"name":"Default","mod":%d,"usn":-1,"lrnToday":[0,0],"revToday":[0,0],"newToday":[0,0],"timeToday":[0,0],"collapsed":false,"browserCollapsed":false,"desc":"","dyn":0,"conf":1,"extendNew":10,"extendRev":50},"%d":{"id":%d,"name":%s,"mod":%d,"usn":-1,"lrnToday":[0,0],"revToday":[0,0],"newToday":[0,0],"timeToday":[0,0],"collapsed":false,"browserCollapsed":false,"desc":"","dyn":0,"conf":1,"extendNew":10,"extendRev":50}}`, mod, did, did, quotedName, mod)
}

const ankiDconf = `{"1":{"id":1,"name":"Default","replayq":true,"lapse":{"leechFails":8,"minInt":1,"delays":[10],"leechAction":0,"mult":0},"rev":{"perDay":100,"ivlFct":1,"maxIvl":36500,"ease4":1.3,"bury":true,"minSpace":1,"fuzz":0.05},"timer":0,"maxTaken":60,"usn":0,"new":{"perDay":20,"delays":[1,10],"separate":true,"ints":[1,4,7],"initialFactor":2500,"bury":true,"order":1},"mod":0,"autoplay":true}}`
