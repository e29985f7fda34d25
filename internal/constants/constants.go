package constants

const USER_AGENT = "raidlog/0.1.0 (+https://github.com/Amund211/raidlog)"
