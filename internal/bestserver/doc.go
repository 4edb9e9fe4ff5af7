/*

The bestserver package tracks the reliability of each server in a pool for the purpose of deciding
which servers should be preferred for future queries. What a server represents is unknown to this
package. It could be a URL, an IP address, the name of a racing pigeon... whatever.

The bestserver structure contains a list of all available servers. After a server is used by the
application, the application reports how it went. That data is used internally to influence which
servers are chosen next.

The current implementation is 'ranking', created with NewRanking(): an ordered list whose order is
the literal dispatch order. The application reports one of three outcomes after each use of a
server:

  - Promote() - the server answered cleanly; it moves one position toward the front
  - Demote() - the server timed out; it moves one position toward the back
  - SinkToBottom() - the server failed hard; it moves to the very back

Order changes persist across queries, so over time the most reliable servers gravitate to the
front and are dispatched first. The generic Result(success bool) entry point maps success onto
Promote and failure onto Demote for callers that cannot distinguish a timeout from a hard error.

The expectation is that there are a relatively small number of servers as the position bookkeeping
is a simple linear rebuild of an index map and thus O(n) per reorder. A server list of 10-20 is
reasonable, 1,000-10,000 is probably not.

This package is structured - servers/index bookkeeping in baseManager, policy in the algorithm
struct - to make it easy to add additional algorithms if the need arises.

Multiple goroutines can safely invoke all the Manager interface methods concurrently.
*/
package bestserver
