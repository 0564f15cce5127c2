package client

import (
	"testing"

	"fortio.org/assert"
)

func TestParseFormUsageKnownValues(t *testing.T) {
	cases := map[string]FormUsage{
		"UNIQUE_USERS_AND_PASSWORDS": FormUsageUniqueUsersAndPasswords,
		"UNIQUE_USERS_SAME_PASSWORD": FormUsageUniqueUsersSamePassword,
		"SINGLE_USER":                FormUsageSingleUser,
		"RECORDS_FROM_FILE":          FormUsageRecordsFromFile,
		"AS_IS":                      FormUsageAsIs,
	}
	for v, want := range cases {
		got, err := ParseFormUsage(v)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseFormUsageRejectsUnknown(t *testing.T) {
	_, err := ParseFormUsage("BOGUS")
	assert.Error(t, err)
}

func TestComposeBodyAsIsReturnsTemplateVerbatim(t *testing.T) {
	u := URL{FormTemplate: "user=bob&password=hunter2", FormUsage: FormUsageAsIs}
	assert.Equal(t, "user=bob&password=hunter2", string(ComposeBody(u, 3)))
}

func TestComposeBodyUniqueUsersAndPasswords(t *testing.T) {
	u := URL{
		FormTemplate: "user=%s%d&password=%s%d",
		FormUsage:    FormUsageUniqueUsersAndPasswords,
		Username:     "user", Password: "pass",
	}
	assert.Equal(t, "user=user3&password=pass3", string(ComposeBody(u, 2)))
}

func TestComposeBodyUniqueUsersSamePassword(t *testing.T) {
	u := URL{
		FormTemplate: "user=%s%d&password=%s",
		FormUsage:    FormUsageUniqueUsersSamePassword,
		Username:     "user", Password: "shared",
	}
	assert.Equal(t, "user=user1&password=shared", string(ComposeBody(u, 0)))
}

func TestComposeBodySingleUser(t *testing.T) {
	u := URL{
		FormTemplate: "user=%s&password=%s",
		FormUsage:    FormUsageSingleUser,
		Username:     "bob", Password: "hunter2",
	}
	assert.Equal(t, "user=bob&password=hunter2", string(ComposeBody(u, 7)))
}

func TestComposeBodyRecordsFromFileCyclesSequentially(t *testing.T) {
	u := URL{
		FormTemplate: "user=%s&password=%s",
		FormUsage:    FormUsageRecordsFromFile,
		FormRecords: []Credential{
			{User: "alice", Password: "pw1"},
			{User: "bob", Password: "pw2"},
		},
	}
	assert.Equal(t, "user=alice&password=pw1", string(ComposeBody(u, 0)))
	assert.Equal(t, "user=bob&password=pw2", string(ComposeBody(u, 1)))
	assert.Equal(t, "user=alice&password=pw1", string(ComposeBody(u, 2)))
}

func TestComposeBodyNoTemplateFallsBackToPostData(t *testing.T) {
	u := URL{PostData: []byte("raw body")}
	assert.Equal(t, "raw body", string(ComposeBody(u, 0)))
}
