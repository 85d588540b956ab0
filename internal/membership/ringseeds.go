package membership

// ringSeeds are the compiled-in 64-bit salts used to derive each of the K
// independent ring orderings from a single hash function. They only need to
// be distinct; the values are arbitrary odd constants borrowed from common
// hashing practice.
var ringSeeds = [...]uint64{
	0x9ae16a3b2f90404f, 0xc2b2ae3d27d4eb4f, 0x165667b19e3779f9,
	0x27d4eb2f165667c5, 0xff51afd7ed558ccd, 0xc4ceb9fe1a85ec53,
	0x2545f4914f6cdd1d, 0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9,
	0x94d049bb133111eb, 0xd6e8feb86659fd93, 0xa5a5a5a5a5a5a5a5,
	0x5bd1e9955bd1e995, 0x87c37b91114253d5, 0x4cf5ad432745937f,
	0x2127599bf4325c37,
}
