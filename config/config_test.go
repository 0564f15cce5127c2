package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
	"fortio.org/curlloader/internal/client"
)

const sampleConfig = `
# sample batch file
BATCH_NAME = smoke_test
CLIENTS_NUM_MAX = 10
CLIENTS_NUM_START = 2
CLIENTS_RAMPUP_INC = 1
CYCLES_NUM = 3
INTERFACE = eth0
IP_ADDR_MIN = 10.0.0.10

URL = "http://example.com/login"
URL_DONT_CYCLE = Y

URL = "http://example.com/page1"
TIMER_AFTER_URL_SLEEP = 500

URL = "https://example.com/page2"

URL = "http://example.com/logout"
URL_DONT_CYCLE = yes

USERNAME = alice
PASSWORD = secret
`

func TestParseBasicBatch(t *testing.T) {
	batches, err := Parse(strings.NewReader(sampleConfig))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(batches))

	b := batches[0]
	assert.Equal(t, "smoke_test", b.Name)
	assert.Equal(t, 10, b.ClientNumMax)
	assert.Equal(t, 2, b.ClientNumStart)
	assert.Equal(t, 1, b.ClientsInitialInc)
	assert.Equal(t, 3, b.CyclesNum)
	assert.Equal(t, "eth0", b.Interface)
	assert.Equal(t, "10.0.0.10", b.BaseIP)
	assert.Equal(t, 4, len(b.URLs))
	assert.True(t, b.IsHTTPS)
	assert.Equal(t, 1, b.FirstCyclingURL)
	assert.Equal(t, 2, b.LastCyclingURL)
	assert.Equal(t, "alice", b.URLs[3].Username)
	assert.Equal(t, "secret", b.URLs[3].Password)
	assert.Equal(t, 500*time.Millisecond, b.URLs[1].TimerAfterURLSleep)
}

func TestIPSharedNumOnlySharesAtExactlyOne(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 2\nIP_ADDR_MIN = 10.0.0.1\nIP_SHARED_NUM = 1\nURL = http://a\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.True(t, batches[0].SharedIP)

	cfg2 := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 2\nIP_ADDR_MIN = 10.0.0.1\nIP_SHARED_NUM = 4\nURL = http://a\n"
	batches2, err := Parse(strings.NewReader(cfg2))
	assert.NoError(t, err)
	assert.False(t, batches2[0].SharedIP)
}

func TestTimerAfterURLSleepRange(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nTIMER_AFTER_URL_SLEEP = 100-200\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	u := batches[0].URLs[0]
	assert.Equal(t, 100, u.SleepRange.Low)
	assert.Equal(t, 200, u.SleepRange.High)
}

func TestTimerURLCompletionParsed(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nTIMER_URL_COMPLETION = 5000\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.Equal(t, 5000, batches[0].URLs[0].CompletionTimeout.Low)
}

func TestFetchProbabilityDefaultsTo100(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.Equal(t, 100, batches[0].URLs[0].FetchProbability)
}

func TestFetchProbabilityParsed(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nFETCH_PROBABILITY = 40\nFETCH_PROBABILITY_ONCE = Y\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	u := batches[0].URLs[0]
	assert.Equal(t, 40, u.FetchProbability)
	assert.True(t, u.FetchProbabilityOnce)
}

func TestFetchProbabilityRejectsOutOfRange(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nFETCH_PROBABILITY = 150\n"
	_, err := Parse(strings.NewReader(cfg))
	assert.Error(t, err)
}

func TestURLUseCurrentRejectedOnFirstURL(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nURL_USE_CURRENT = Y\n"
	_, err := Parse(strings.NewReader(cfg))
	assert.Error(t, err)
}

func TestURLUseCurrentAllowedAfterFirstURL(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nURL = http://b\nURL_USE_CURRENT = Y\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.True(t, batches[0].URLs[1].UseCurrent)
}

func TestFormUsageTypeParsed(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\n" +
		"FORM_USAGE_TYPE = UNIQUE_USERS_AND_PASSWORDS\nFORM_STRING = user=%s%d&password=%s%d\n" +
		"USERNAME = bob\nPASSWORD = hunter2\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	u := batches[0].URLs[0]
	assert.Equal(t, client.FormUsageUniqueUsersAndPasswords, u.FormUsage)
	body := client.ComposeBody(u, 0)
	assert.Equal(t, "user=bob1&password=hunter21", string(body))
}

func TestFormUsageTypeRejectsUnknownValue(t *testing.T) {
	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nURL = http://a\nFORM_USAGE_TYPE = NOT_A_TYPE\n"
	_, err := Parse(strings.NewReader(cfg))
	assert.Error(t, err)
}

func TestFormRecordsFileLoadsAndComposesBody(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/creds.txt"
	assert.NoError(t, os.WriteFile(path, []byte("alice,pw1\nbob,pw2\n"), 0o644))

	cfg := "BATCH_NAME = x\nCLIENTS_NUM_MAX = 2\nURL = http://a\n" +
		"FORM_USAGE_TYPE = RECORDS_FROM_FILE\nFORM_STRING = user=%s&password=%s\n" +
		"FORM_RECORDS_FILE = " + path + "\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	u := batches[0].URLs[0]
	assert.Equal(t, 2, len(u.FormRecords))
	assert.Equal(t, "user=alice&password=pw1", string(client.ComposeBody(u, 0)))
	assert.Equal(t, "user=bob&password=pw2", string(client.ComposeBody(u, 1)))
}

func TestNetmaskParsesDottedAndBitCount(t *testing.T) {
	n, err := parseNetmask("24")
	assert.NoError(t, err)
	assert.Equal(t, 24, n)

	n, err = parseNetmask("255.255.255.0")
	assert.NoError(t, err)
	assert.Equal(t, 24, n)
}

func TestParseMultipleBatches(t *testing.T) {
	cfg := "BATCH_NAME = one\nCLIENTS_NUM_MAX = 1\nURL = http://a\nBATCH_NAME = two\nCLIENTS_NUM_MAX = 2\nURL = http://b\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(batches))
	assert.Equal(t, "one", batches[0].Name)
	assert.Equal(t, "two", batches[1].Name)
}

func TestParseRejectsTagBeforeBatchName(t *testing.T) {
	_, err := Parse(strings.NewReader("CLIENTS_NUM_MAX = 1\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownTag(t *testing.T) {
	_, err := Parse(strings.NewReader("BATCH_NAME = x\nNOT_A_REAL_TAG = 1\n"))
	assert.Error(t, err)
}

func TestParseRejectsMissingEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("BATCH_NAME = x\nJUST_SOME_TEXT\n"))
	assert.Error(t, err)
}

func TestParseIgnoredTagDoesNotFail(t *testing.T) {
	_, err := Parse(strings.NewReader("BATCH_NAME = x\nCLIENTS_NUM_MAX = 1\nUSER_AGENT = test-agent\n"))
	assert.NoError(t, err)
}

func TestParseCommentsAndBlankLinesSkipped(t *testing.T) {
	cfg := "\n# leading comment\nBATCH_NAME = x\n\nCLIENTS_NUM_MAX = 1 # inline comment\n"
	batches, err := Parse(strings.NewReader(cfg))
	assert.NoError(t, err)
	assert.Equal(t, 1, batches[0].ClientNumMax)
}

func TestParseFileNotFound(t *testing.T) {
	_, err := ParseFile("/nonexistent/path/to/config.conf")
	assert.Error(t, err)
}
