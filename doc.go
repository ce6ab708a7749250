// mds is an embedded ELT pipeline. It fetches repository metadata from the
// GitHub REST API, lands it as Parquet, cleans it with SQL, and aggregates it
// into small mart tables - three stages glued together by the Arrow columnar
// format so that no stage ever re-encodes another stage's data.
//
// The pipeline is deliberately boring: each stage is idempotent, re-runnable
// on its own, and communicates with its neighbors only through files on disk.
//
// 1. Extract
//
//    The extract stage pulls paginated JSON from the GitHub API, tracking a
//    persistent cursor on the updated_at field so that re-runs only fetch
//    repositories that changed since the last successful run. Fetched records
//    are merged into the raw store by primary key - a re-fetched repository
//    replaces its previous version entirely rather than appending a
//    duplicate. The cursor only advances after the merged raw file is
//    durably on disk, so a mid-run crash can never silently skip records.
//
// 2. Stage
//
//    The staging stage reads every raw Parquet file (all partitions, schemas
//    unioned by column name), applies a fixed set of renames, casts, and
//    null filters with DuckDB, and writes one consolidated cleaned table.
//    It is a pure function of the raw store: same input, same output. It
//    does no aggregation - structural cleaning only.
//
// 3. Marts
//
//    The marts stage reads the cleaned table through Arrow, filters it to a
//    trailing lookback window (updated_at >= now - lookback days), and runs
//    each registered mart function over the filtered frame. Mart functions
//    are pure: frame in, frame out, no shared state. Each result is written
//    to its own Parquet artifact.
//
// The pipeline package sequences the three stages with hard barriers between
// them, and cmd/mds exposes each stage (and the whole run) as a subcommand.

package mds
