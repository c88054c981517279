package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

func TestActiveSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(ActiveSession{})
	assertGormTag(t, typ, "ChatID", "primaryKey")
	assertGormTag(t, typ, "ChatID", "autoIncrement:false")
	assertGormTag(t, typ, "Record", "type:text")
	assertGormTag(t, typ, "CreatedAt", "index")
}

func TestArchivedSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(ArchivedSession{})
	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ChatID", "uniqueIndex:idx_archive_chat_correlation")
	assertGormTag(t, typ, "CorrelationID", "uniqueIndex:idx_archive_chat_correlation")
	assertGormTag(t, typ, "StartedAt", "index")
}

func TestUnreachableChat_Fields(t *testing.T) {
	typ := reflect.TypeOf(UnreachableChat{})
	assertGormTag(t, typ, "ChatID", "primaryKey")
	assertGormTag(t, typ, "MarkedAt", "index")
}

func TestPlatformIdentity_Fields(t *testing.T) {
	typ := reflect.TypeOf(PlatformIdentity{})
	assertGormTag(t, typ, "Platform", "uniqueIndex:idx_platform_external")
	assertGormTag(t, typ, "ExternalID", "uniqueIndex:idx_platform_external")
}
