// Package harness runs scripted game scenarios against a fresh in-memory world.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: border_war
//	description: "What this scenario demonstrates"
//	rules: ../rules/fast.cue        # optional, relative to the file
//	admins: [gm]                    # users holding the admin role
//	world:                          # seed, see package seed
//	  territories:
//	    - {id: atk, owner: alice, cells: [a1]}
//	    - {id: def, owner: bob, cells: [d1, d2]}
//	flow:
//	  - invoke: war.declare
//	    as: alice
//	    args: {target_territory_id: def, target_cell_ids: [d1]}
//	    expect:
//	      case: ok                  # or an error code
//	      result: {war_id: id-0001} # subset match
//	  - invoke: clock.advance
//	    args: {by: 25h}
//	assertions:
//	  - type: event_order
//	    kinds: [war.declared]
//	  - type: balance
//	    account: {kind: currency, owner: alice}
//	    amount: 100
//	  - type: final_state
//	    table: wars
//	    where: {id: id-0001}
//	    expect: {status: declared}
//
// # Assertion Types
//
//   - trace_contains: an invocation of action whose args include args
//   - trace_order: first invocations of actions appear in order
//   - trace_count: action was invoked exactly count times
//   - event_order: first events of kinds appear in order
//   - event_count: exactly count events of kind were recorded
//   - balance: a ledger account holds amount
//   - final_state: exactly one row of table matches where and has expect
//
// # Determinism
//
// Each run opens its own in-memory store, starts the clock at Epoch and
// numbers new entities id-0001, id-0002 and so on. Steps run in order and
// operations only see the clock move on clock.advance, so equal scenarios
// produce equal traces and event logs. RunWithGolden compares that snapshot
// with testdata/golden/<name>.golden.
package harness
