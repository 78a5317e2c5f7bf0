/*
Package main implements dnswatch, a detector for DNS spoofing and cache poisoning indicators.

dnswatch reads observed DNS traffic, pairs queries with their responses and reports names
that received more than one response, or different answers, inside one correlation window:

  - Resolver log files, where any line carrying the response marker counts as a response
  - Packet captures in pcap and pcapng format, over UDP or TCP, IPv4 or IPv6
  - dnstap frame stream files written by resolvers and load balancers
  - Windowed finalization for long captures and followed log files
  - Trusted resolver networks marked in the evidence listing
  - Text, JSON lines and YAML reports, and a Prometheus textfile with run counters

Architecture:

Each input runs through one pipeline:

 1. Source - Reads raw units: log lines, captured frames or dnstap messages
 2. Parser - Decodes a unit into a query or response event, or counts why it could not
 3. Correlator - Groups events into transactions keyed by name and transaction ID
 4. Classifier - Turns finalized transactions into anomalies with a severity
 5. Report - Collects anomalies and renders them with the run statistics

Severity:

A transaction with two or more distinct answers is CONFLICTING_RESPONSES with critical
severity. Log files never show answers, so repeated response lines for a name are
MULTIPLE_RESPONSES with high severity. Identical repeated answers are not reported.

Usage:

	dnswatch [command]

Available Commands:

	scan        Scan a log file, capture or dnstap file for anomalies
	config      Write the default configuration file
	version     Print version information

Example:

	# Scan a capture
	dnswatch scan capture.pcap

	# Follow a resolver log, finalizing names idle for 10 seconds
	dnswatch scan --follow --window 10s /var/log/named/queries.log

	# Use a config file, generated on first use
	dnswatch scan -c dnswatch.toml resolver.dnstap
*/
package main // import "github.com/semihalev/dnswatch"
