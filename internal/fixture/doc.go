// Package fixture stores recorded API calls on disk.
//
// A Store is a root directory holding one cassette per test case. The
// cassette directory name is a pure function of the test-case name (see
// DirName), so a replay run finds what a record run wrote without any
// external index.
//
// Each cassette holds one file per call, named by zero-padded sequence
// index:
//
//	testdata/placebo/list-instances/00000.json
//	testdata/placebo/list-instances/00001.json
//
// A JSON entry looks like:
//
//	{
//	  "index": 0,
//	  "operation": "ec2.DescribeInstances",
//	  "service": "ec2",
//	  "method": "DescribeInstances",
//	  "status_code": 200,
//	  "params": {"MaxResults": 5},
//	  "response": {"Reservations": [...]}
//	}
//
// # Errors
//
// Every failure is an *Error carrying the test-case name, the index and the
// operation where known, so the right cassette can be re-recorded:
//
//   - INVALID_FIXTURE_DIRECTORY: replay against a cassette that does not exist
//   - FIXTURE_NOT_FOUND: no entry at the requested index (over-calling)
//   - WRITE_ERROR: filesystem failure while recording
//   - DECODE_ERROR: entry file unreadable or corrupt
package fixture
